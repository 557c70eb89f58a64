package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				file_ids JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'running', 'completed', 'failed')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_tasks (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				task_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'pending',
				progress INT NOT NULL DEFAULT 0,
				agent VARCHAR(255),
				position INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_tasks_workflow_id ON workflow_tasks(workflow_id);
			CREATE INDEX idx_workflow_tasks_status ON workflow_tasks(status);

			CREATE TABLE workflow_results (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				task_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				output JSONB,
				error TEXT,
				metrics JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_results_workflow_id ON workflow_results(workflow_id);
			CREATE INDEX idx_workflow_results_task_id ON workflow_results(task_id);
			CREATE INDEX idx_workflow_results_created_at ON workflow_results(created_at);
		`,
	}
}
