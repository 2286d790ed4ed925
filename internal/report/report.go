package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/tvt/pkg/types"
)

// PriceQuoter returns the HBAR price in USD.
type PriceQuoter interface {
	USDPrice(ctx context.Context) (float64, error)
}

// GasDetail is the gas breakdown of one EVM-style transaction.
type GasDetail struct {
	GasUsed          uint64
	GasLimit         uint64
	GasConsumed      uint64
	GasPriceTinybars uint64
}

// GasDetailer looks up gas details for a fee record.
type GasDetailer interface {
	GasDetail(ctx context.Context, rec types.FeeRecord) (GasDetail, error)
}

// SummaryRow is the aggregate of one result type.
type SummaryRow struct {
	Type        types.ResultType
	Hbar        Stats
	USD         *Stats // nil when no price is available
	ScheduleUSD float64
	AvgGasUSD   *float64 // average gasUsed x gasPrice, EVM types only
	AvgConsUSD  *float64 // average gasConsumed x gasPrice, EVM types only
	CloserTo    []string // empty only when USD is nil
}

// DetailRow describes one fee record.
type DetailRow struct {
	Record  types.FeeRecord
	Gas     *GasDetail // nil for native types or failed lookups
	Comment string
	Link    string
}

// Report is the derived view of a run's fee records.
type Report struct {
	Network  types.Network
	PriceUSD *float64
	Summary  []SummaryRow
	Details  []DetailRow
}

// Aggregator builds reports.
type Aggregator struct {
	price   PriceQuoter
	gas     GasDetailer
	network types.Network
	logger  *slog.Logger
}

// AggregatorConfig holds Aggregator dependencies.
type AggregatorConfig struct {
	Price   PriceQuoter
	Gas     GasDetailer // optional
	Network types.Network
	Logger  *slog.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		price:   cfg.Price,
		gas:     cfg.Gas,
		network: cfg.Network,
		logger:  logger,
	}
}

// Build computes the report for records grouped by type. The price is
// queried once. Unavailable prices and gas details are left empty rather
// than failing the report.
func (a *Aggregator) Build(ctx context.Context, byType map[types.ResultType][]types.FeeRecord) *Report {
	rep := &Report{Network: a.network}

	if a.price != nil {
		price, err := a.price.USDPrice(ctx)
		if err != nil {
			a.logger.Warn("price quote unavailable", slog.String("error", err.Error()))
		} else {
			rep.PriceUSD = &price
		}
	}

	for _, t := range types.AllResultTypes() {
		records := byType[t]
		if len(records) == 0 {
			continue
		}

		gas := make([]*GasDetail, len(records))
		if t.IsEVM() && a.gas != nil {
			for i, rec := range records {
				d, err := a.gas.GasDetail(ctx, rec)
				if err != nil {
					a.logger.Warn("gas detail unavailable",
						slog.String("transaction_id", rec.TransactionID),
						slog.String("error", err.Error()))
					continue
				}
				gas[i] = &d
			}
		}

		rep.Summary = append(rep.Summary, a.summarize(t, records, gas, rep.PriceUSD))
		for i, rec := range records {
			rep.Details = append(rep.Details, DetailRow{
				Record:  rec,
				Gas:     gas[i],
				Comment: comment(rec, gas[i]),
				Link:    HashscanLink(a.network, rec.TransactionID),
			})
		}
	}
	return rep
}

func (a *Aggregator) summarize(t types.ResultType, records []types.FeeRecord, gas []*GasDetail, price *float64) SummaryRow {
	values := make([]float64, len(records))
	for i, rec := range records {
		values[i] = rec.FeeHbar()
	}

	row := SummaryRow{
		Type:        t,
		Hbar:        Describe(values),
		ScheduleUSD: t.ScheduledFeeUSD(),
	}
	if price == nil {
		return row
	}

	usd := row.Hbar.Scale(*price)
	row.USD = &usd
	row.CloserTo = ClosestLabels(row.ScheduleUSD, usd)

	if t.IsEVM() {
		var used, consumed []float64
		for _, g := range gas {
			if g == nil {
				continue
			}
			used = append(used, tinybarsToHbar(g.GasUsed*g.GasPriceTinybars)*(*price))
			consumed = append(consumed, tinybarsToHbar(g.GasConsumed*g.GasPriceTinybars)*(*price))
		}
		if len(used) > 0 {
			avgUsed, avgConsumed := Mean(used), Mean(consumed)
			row.AvgGasUSD = &avgUsed
			row.AvgConsUSD = &avgConsumed
		}
	}
	return row
}

func comment(rec types.FeeRecord, gas *GasDetail) string {
	if !rec.Type.IsEVM() {
		return ""
	}
	if gas == nil {
		return "gas details unavailable"
	}
	if gas.GasLimit > 0 && gas.GasUsed < gas.GasLimit {
		return fmt.Sprintf("charged %d of %d gas limit", gas.GasUsed, gas.GasLimit)
	}
	return ""
}

// HashscanLink returns the explorer URL of a transaction.
func HashscanLink(network types.Network, txID string) string {
	if txID == "" {
		return ""
	}
	if network == types.NetworkLocalnet {
		return "http://localhost:8080/devnet/transaction/" + txID
	}
	return fmt.Sprintf("https://hashscan.io/%s/transaction/%s", network, txID)
}

func tinybarsToHbar(v uint64) float64 {
	return float64(v) / types.TinybarsPerHbar
}
