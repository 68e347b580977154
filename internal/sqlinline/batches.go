package sqlinline

const QInsertBatchJob = `--sql da1c150b-2e67-45b7-8944-9eaaf0131408
insert into batch_jobs(
  id,
  user_id,
  status,
  total_count,
  completed_count,
  shared_prompt,
  item_prompts,
  child_job_ids,
  expires_at,
  created_at,
  updated_at
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
on conflict (id) do nothing;
`

const QSelectBatchJobByID = `--sql 672670b4-5816-449a-87e3-c581e2ca0924
select
  id,
  user_id,
  status,
  total_count,
  completed_count,
  shared_prompt,
  item_prompts,
  child_job_ids,
  expires_at,
  created_at,
  updated_at
from batch_jobs
where id = $1
limit 1;
`

const QAdvanceBatchProgress = `--sql 6505cd6a-e797-414f-9bd2-ffae70e509c5
update batch_jobs
set status = $3,
    completed_count = $4,
    updated_at = $5
where id = $1
  and completed_count = $2;
`
