package reporting

import (
	"time"

	"github.com/yourorg/multigateway/internal/context"
)

// RetrospectiveReport summarizes stored transactions.
type RetrospectiveReport struct {
	TotalTransactions   int
	Completed           int
	Refunded            int
	Failed              int
	Pending             int
	TotalAmountCaptured int64           // Sum of COMPLETED amounts, in minor units
	TotalAmountRefunded int64           // Sum of REFUNDED amounts, in minor units
	AmountByGateway     map[int64]int64 // COMPLETED amounts per gateway
	GatewayUsage        map[int64]int   // Transactions per gateway, any status
	DateFrom            time.Time
	DateTo              time.Time
	CoveredDuration     time.Duration
}

// RetrospectiveReporter generates retrospective reports from transactions.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective aggregates txs in a single pass.
func (rr *RetrospectiveReporter) GenerateRetrospective(txs []context.Transaction) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		AmountByGateway: make(map[int64]int64),
		GatewayUsage:    make(map[int64]int),
	}
	if len(txs) == 0 {
		return report, nil
	}

	report.DateFrom = txs[0].CreatedAt
	report.DateTo = txs[0].CreatedAt
	for _, tx := range txs {
		report.TotalTransactions++
		if tx.CreatedAt.Before(report.DateFrom) {
			report.DateFrom = tx.CreatedAt
		}
		if tx.CreatedAt.After(report.DateTo) {
			report.DateTo = tx.CreatedAt
		}
		if tx.GatewayID != 0 {
			report.GatewayUsage[tx.GatewayID]++
		}

		switch tx.Status {
		case context.TransactionCompleted:
			report.Completed++
			report.TotalAmountCaptured += tx.AmountMinorUnits
			report.AmountByGateway[tx.GatewayID] += tx.AmountMinorUnits
		case context.TransactionRefunded:
			report.Refunded++
			report.TotalAmountRefunded += tx.AmountMinorUnits
		case context.TransactionFailed:
			report.Failed++
		case context.TransactionPending:
			report.Pending++
		}
	}
	report.CoveredDuration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}
