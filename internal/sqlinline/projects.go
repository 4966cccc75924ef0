package sqlinline

const QInsertProject = `--sql 8d0c3f6e-5a41-4f8e-9b27-1c6e0a9d4b53
insert into projects(
  id,
  user_id,
  name,
  tool,
  status,
  project_data,
  version
)
values (
  $1::uuid,
  $2::uuid,
  $3::text,
  $4::text,
  $5::text,
  $6::jsonb,
  0
)
returning created_at, updated_at;
`

const QSelectProjectByID = `--sql 3b7e9a12-64cd-4f0b-a8e5-92d1c7f04e66
select id::text, user_id::text, coalesce(name, ''), coalesce(tool, ''), status, coalesce(project_data, '{}'::jsonb), version, created_at, updated_at
from projects
where id = $1::uuid
limit 1;
`

const QSelectProjectForUser = `--sql e41f6b07-2d98-4c3a-b1f5-7a0c8e9d2b14
select id::text, user_id::text, coalesce(name, ''), coalesce(tool, ''), status, coalesce(project_data, '{}'::jsonb), version, created_at, updated_at
from projects
where id = $1::uuid
  and user_id = $2::uuid
limit 1;
`

const QMergeProjectData = `--sql 0f9a2c4d-7b61-4e38-9d05-b6c3e1a87f20
update projects
set project_data = coalesce(project_data, '{}'::jsonb) || $2::jsonb,
    version = version + 1,
    updated_at = now()
where id = $1::uuid;
`

const QTransitionProject = `--sql 6c2d8e5f-9a03-4b7c-8e41-d5f0a2b93c78
update projects
set status = $3::text,
    project_data = coalesce(project_data, '{}'::jsonb) || $4::jsonb,
    version = version + 1,
    updated_at = now()
where id = $1::uuid
  and status = 'processing'
  and version = $2::int;
`

const QSelectStaleProjects = `--sql a97e1d30-c54b-4f62-8a1e-3f7b0d6c5e29
select id::text, user_id::text, coalesce(name, ''), coalesce(tool, ''), status, coalesce(project_data, '{}'::jsonb), version, created_at, updated_at
from projects
where tool = $1::text
  and status = 'processing'
  and created_at < $2::timestamptz
order by created_at asc
limit $3::int;
`

const QPing = `--sql 52b8f0e7-1c3d-4a96-b7e2-8d4f6a0c1b35
select 1;
`
