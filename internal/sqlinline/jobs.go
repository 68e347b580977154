package sqlinline

const QInsertJob = `--sql 35098650-e1f2-4d89-8760-afd4bdecdb8e
insert into jobs(
  id,
  user_id,
  status,
  prompt,
  locale,
  settings_json,
  temp_storage_key,
  final_storage_key,
  batch_job_id,
  error_message,
  expires_at,
  created_at,
  updated_at
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
on conflict (id) do nothing;
`

const QSelectJobByID = `--sql 402deea0-42ac-41a8-8966-39d4ecfd59cb
select
  id,
  user_id,
  status,
  prompt,
  locale,
  settings_json,
  temp_storage_key,
  final_storage_key,
  batch_job_id,
  error_message,
  expires_at,
  created_at,
  updated_at
from jobs
where id = $1
limit 1;
`

const QUpdateJobFromStatus = `--sql 512b5104-20ff-4b5f-8f31-4b04a719f842
update jobs
set status = $3,
    prompt = $4,
    locale = $5,
    settings_json = $6,
    temp_storage_key = $7,
    final_storage_key = $8,
    batch_job_id = $9,
    error_message = $10,
    expires_at = $11,
    updated_at = $12
where id = $1
  and status = $2;
`
