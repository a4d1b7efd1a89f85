package engine

import (
	"context"
	"sync"

	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/models"
)

// batchProcessor runs the per-transaction pipeline over a batch, in
// parallel when the batch is large enough to benefit. Each transaction is
// handled by exactly one worker.
type batchProcessor struct {
	logger      logging.Logger
	workerCount int
	threshold   int
}

type jobFunc func(ctx context.Context, tx *models.Transaction) ([]models.AppliedRuleResult, error)

// jobResult preserves the position of a transaction in the input batch.
type jobResult struct {
	index   int
	applied []models.AppliedRuleResult
	err     error
}

func newBatchProcessor(logger logging.Logger, workers, threshold int) *batchProcessor {
	if workers < 1 {
		workers = 1
	}
	return &batchProcessor{logger: logger, workerCount: workers, threshold: threshold}
}

// process returns one result per input transaction, in input order.
func (bp *batchProcessor) process(ctx context.Context, txs []*models.Transaction, job jobFunc) []jobResult {
	// Use sequential processing for small batches to avoid overhead
	if len(txs) < bp.threshold || bp.workerCount == 1 {
		return bp.processSequential(ctx, txs, job)
	}
	return bp.processConcurrent(ctx, txs, job)
}

func (bp *batchProcessor) processSequential(ctx context.Context, txs []*models.Transaction, job jobFunc) []jobResult {
	results := make([]jobResult, len(txs))
	for i, tx := range txs {
		applied, err := job(ctx, tx)
		results[i] = jobResult{index: i, applied: applied, err: err}
	}
	return results
}

type indexedTransaction struct {
	index int
	tx    *models.Transaction
}

func (bp *batchProcessor) processConcurrent(ctx context.Context, txs []*models.Transaction, job jobFunc) []jobResult {
	workers := bp.workerCount
	if workers > len(txs) {
		workers = len(txs)
	}

	jobs := make(chan indexedTransaction, workers)
	resultChan := make(chan jobResult, len(txs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bp.worker(ctx, &wg, jobs, resultChan, job)
	}

	// Every transaction is dispatched even after cancellation; the job
	// itself observes ctx and reports the error for its slot.
	go func() {
		defer close(jobs)
		for i, tx := range txs {
			jobs <- indexedTransaction{index: i, tx: tx}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]jobResult, len(txs))
	for r := range resultChan {
		results[r.index] = r
	}

	bp.logger.Debug("Concurrent batch processing completed",
		logging.F(logging.FieldCount, len(txs)),
		logging.F(logging.FieldWorkers, workers))

	return results
}

func (bp *batchProcessor) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan indexedTransaction, results chan<- jobResult, job jobFunc) {
	defer wg.Done()
	for it := range jobs {
		applied, err := job(ctx, it.tx)
		results <- jobResult{index: it.index, applied: applied, err: err}
	}
}
