package sqlinline

const QInsertArtifact = `--sql 3f0c9a4e-5d21-4b8e-9c7a-61e2d4b7a905
insert into artifacts(
  id,
  task_id,
  owner_id,
  persona_id,
  kind,
  prompt,
  url,
  tags,
  created_at
) values (
  gen_random_uuid(),
  $1::text,
  $2::text,
  nullif($3::text, ''),
  $4::text,
  $5::text,
  $6::text,
  coalesce($7::text[], '{}'::text[]),
  now()
)
on conflict (task_id) do nothing
returning id, created_at;
`

const QListArtifactsByOwner = `--sql 8b6d2f17-c4a3-4e95-b0d8-2a7f5c9e1d43
select
  id,
  task_id,
  owner_id,
  coalesce(persona_id, ''),
  kind,
  prompt,
  url,
  tags,
  created_at
from artifacts
where owner_id = $1::text
order by created_at desc
limit $2::int offset $3::int;
`
