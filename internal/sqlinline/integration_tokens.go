package sqlinline

const QSelectIntegrationToken = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7
select token
from integration_tokens
where provider = $1::text;
`

const QListIntegrationProviders = `--sql 2c71e94b-36d8-4a0f-9e15-b8d3f6a2c470
select coalesce(array_agg(provider order by provider), '{}'::text[])
from integration_tokens;
`

const QUpsertIntegrationToken = `--sql 6d4f5660-0f7c-4f73-a1f3-9ab6d5e6c7a3
insert into integration_tokens(
  id,
  provider,
  token,
  properties,
  created_at,
  updated_at
) values (
  gen_random_uuid(),
  $1::text,
  $2::text,
  coalesce($3::jsonb, '{}'::jsonb),
  now(),
  now()
)
on conflict (provider) do update set
  token = excluded.token,
  properties = integration_tokens.properties || excluded.properties,
  updated_at = now();
`

const QDeleteIntegrationToken = `--sql e5a09d3c-7b42-4c8e-a61f-0d9b27f4e3b8
delete from integration_tokens
where provider = $1::text;
`
