package generation

import (
	"fmt"
	"strings"

	"genstudio/internal/domain"
)

// Validate checks that req carries what its kind needs. Failures are
// SubmissionRejected errors wrapping domain.ErrInvalidPrompt.
func Validate(req domain.GenerationRequest) error {
	if !req.Kind.Valid() {
		return domain.Rejected(domain.ErrInvalidPrompt, "unsupported kind %q", req.Kind)
	}
	if strings.TrimSpace(req.Owner.UserID) == "" {
		return domain.Rejected(domain.ErrInvalidPrompt, "owner user id is required")
	}
	p := req.Payload
	prompt := strings.TrimSpace(p.Prompt)
	switch req.Kind {
	case domain.KindImage, domain.KindVoice, domain.KindMusic:
		if prompt == "" {
			return domain.Rejected(domain.ErrInvalidPrompt, "%s generation requires a prompt", req.Kind)
		}
	case domain.KindVideo:
		if prompt == "" && len(nonEmpty(p.ReferenceURLs)) == 0 {
			return domain.Rejected(domain.ErrInvalidPrompt, "video generation requires a prompt or a reference image")
		}
	case domain.KindBlend:
		if n := len(nonEmpty(p.ReferenceURLs)); n < 2 {
			return domain.Rejected(domain.ErrInvalidPrompt, "blend requires at least 2 reference images, got %d", n)
		}
	case domain.KindAction:
		if strings.TrimSpace(p.Action) == "" {
			return domain.Rejected(domain.ErrInvalidPrompt, "action name is required")
		}
		if strings.TrimSpace(p.ParentTaskID) == "" {
			return domain.Rejected(domain.ErrInvalidPrompt, "action requires the parent task id")
		}
	}
	return nil
}

// originPrompt is the prompt an artifact is persisted under. Action tasks
// keep the prompt of the result they derive from.
func originPrompt(req domain.GenerationRequest) string {
	p := req.Payload
	switch req.Kind {
	case domain.KindAction:
		if s := strings.TrimSpace(p.OriginPrompt); s != "" {
			return s
		}
		if s := strings.TrimSpace(p.Prompt); s != "" {
			return s
		}
		return fmt.Sprintf("%s of %s", strings.TrimSpace(p.Action), strings.TrimSpace(p.ParentTaskID))
	case domain.KindBlend:
		if s := strings.TrimSpace(p.Prompt); s != "" {
			return s
		}
		return fmt.Sprintf("blend of %d images", len(nonEmpty(p.ReferenceURLs)))
	default:
		if s := strings.TrimSpace(p.Prompt); s != "" {
			return s
		}
		if refs := nonEmpty(p.ReferenceURLs); len(refs) > 0 {
			return fmt.Sprintf("%s from %s", req.Kind, refs[0])
		}
		return string(req.Kind)
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
