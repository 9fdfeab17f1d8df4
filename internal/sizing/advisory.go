package sizing

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionSizer is a Kelly-criterion advisory sizer. It is never consulted
// to size a live order — the primary sizing path is Size() in sizing.go,
// following the deterministic risk-percent formula — but it is kept
// running alongside every stream so the status projection can surface
// "what a Kelly-optimal size would have been" as a diagnostic, grounded on
// each stream's own trade history.
type PositionSizer struct {
	logger *zap.Logger
	config *SizingConfig

	mu           sync.RWMutex
	tradeHistory []*TradeResult
}

// SizingConfig configures the advisory sizer.
type SizingConfig struct {
	MaxPositionPct float64
	KellyFraction  float64
	MinPositionPct float64
	LookbackTrades int
}

// DefaultSizingConfig returns conservative advisory defaults.
func DefaultSizingConfig() *SizingConfig {
	return &SizingConfig{
		MaxPositionPct: 0.10,
		KellyFraction:  0.25,
		MinPositionPct: 0.005,
		LookbackTrades: 100,
	}
}

// TradeResult is one closed trade's outcome, fed back for Kelly statistics.
type TradeResult struct {
	Symbol    string
	ReturnPct float64
	IsWin     bool
}

// NewPositionSizer creates a new advisory sizer.
func NewPositionSizer(logger *zap.Logger, config *SizingConfig) *PositionSizer {
	if config == nil {
		config = DefaultSizingConfig()
	}
	return &PositionSizer{
		logger:       logger,
		config:       config,
		tradeHistory: make([]*TradeResult, 0, config.LookbackTrades*2),
	}
}

// SizingRequest is the advisory sizer's input.
type SizingRequest struct {
	PortfolioValue decimal.Decimal
	CurrentPrice   decimal.Decimal
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	Confidence     float64
}

// SizingResult is the advisory sizer's diagnostic output.
type SizingResult struct {
	PositionPct     float64 `json:"position_pct"`
	KellyOptimal    float64 `json:"kelly_optimal"`
	KellyUsed       float64 `json:"kelly_used"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	LimitingFactor  string  `json:"limiting_factor"`
}

// CalculateSize returns a diagnostic Kelly-based estimate; it is advisory
// only and is not used to size a live order.
func (ps *PositionSizer) CalculateSize(req *SizingRequest) *SizingResult {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	result := &SizingResult{}

	priceFloat, _ := req.CurrentPrice.Float64()
	stopFloat, _ := req.StopLoss.Float64()
	tpFloat, _ := req.TakeProfit.Float64()

	riskPct := math.Abs(priceFloat-stopFloat) / priceFloat
	rewardPct := math.Abs(tpFloat-priceFloat) / priceFloat
	if riskPct > 0 {
		result.RiskRewardRatio = rewardPct / riskPct
	}

	stats := ps.statisticsLocked()
	kellyOptimal := ps.calculateKelly(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	result.KellyOptimal = kellyOptimal

	kellyUsed := kellyOptimal * ps.config.KellyFraction
	result.KellyUsed = kellyUsed
	result.LimitingFactor = "kelly"

	positionPct := kellyUsed
	if req.Confidence > 0 && req.Confidence < 1 {
		positionPct *= req.Confidence
	}
	if positionPct > ps.config.MaxPositionPct {
		positionPct = ps.config.MaxPositionPct
		result.LimitingFactor = "max_position"
	}
	if positionPct < ps.config.MinPositionPct {
		positionPct = ps.config.MinPositionPct
	}
	result.PositionPct = positionPct

	return result
}

// calculateKelly implements f* = p - q/b where p is win probability, q is
// 1-p, and b is the win/loss payoff ratio.
func (ps *PositionSizer) calculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 {
		return 0
	}
	p := winRate
	q := 1 - p
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	kelly := p - q/b
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		kelly = 1
	}
	return kelly
}

// AddTradeResult feeds a closed trade's outcome into the Kelly statistics.
func (ps *PositionSizer) AddTradeResult(result *TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.tradeHistory = append(ps.tradeHistory, result)
	if len(ps.tradeHistory) > ps.config.LookbackTrades*2 {
		ps.tradeHistory = ps.tradeHistory[len(ps.tradeHistory)-ps.config.LookbackTrades:]
	}
}

// TradeStatistics summarizes the advisory sizer's trade history.
type TradeStatistics struct {
	TotalTrades int     `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
}

// GetTradeStatistics returns the advisory sizer's current statistics.
func (ps *PositionSizer) GetTradeStatistics() TradeStatistics {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.statisticsLocked()
}

func (ps *PositionSizer) statisticsLocked() TradeStatistics {
	stats := TradeStatistics{TotalTrades: len(ps.tradeHistory)}
	if len(ps.tradeHistory) == 0 {
		return stats
	}

	var wins, losses int
	var sumWins, sumLosses float64
	for _, t := range ps.tradeHistory {
		if t.IsWin {
			wins++
			sumWins += t.ReturnPct
		} else {
			losses++
			sumLosses += math.Abs(t.ReturnPct)
		}
	}
	stats.WinRate = float64(wins) / float64(stats.TotalTrades)
	if wins > 0 {
		stats.AvgWin = sumWins / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = sumLosses / float64(losses)
	}
	return stats
}
