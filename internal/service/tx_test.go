package service

import "context"

type testTxRepos struct {
	knowledge     KnowledgeRepositoryInterface
	ingestionJobs IngestionJobRepositoryInterface
}

func (t *testTxRepos) Knowledge() KnowledgeRepositoryInterface {
	return t.knowledge
}

func (t *testTxRepos) IngestionJobs() IngestionJobRepositoryInterface {
	return t.ingestionJobs
}

type testTxRunner struct {
	repos  TxRepositories
	called bool
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called = true
	return fn(t.repos)
}
