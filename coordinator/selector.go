package coordinator

import (
	"strings"

	"go.uber.org/zap"
)

// SelectionWeights are the scoring constants of the selection algorithm.
// They are a fixed heuristic; keeping them in one struct lets deployments
// tune them without touching the algorithm.
type SelectionWeights struct {
	Capability   float64 `yaml:"capability" json:"capability"`
	Performance  float64 `yaml:"performance" json:"performance"`
	SuccessRate  float64 `yaml:"success_rate" json:"success_rate"`
	ResponseTime float64 `yaml:"response_time" json:"response_time"`
}

// DefaultSelectionWeights returns the standard blend.
func DefaultSelectionWeights() SelectionWeights {
	return SelectionWeights{
		Capability:   0.7,
		Performance:  0.3,
		SuccessRate:  0.6,
		ResponseTime: 0.4,
	}
}

// responseTimeCeilingMs is the response time at or below which a worker
// earns the full response-time contribution.
const responseTimeCeilingMs = 1000.0

// Selector scores available workers against a task's required capabilities.
// It is a pure function over the candidate snapshot it is given.
type Selector struct {
	weights SelectionWeights
	logger  *zap.Logger
}

// NewSelector creates a selector with the given weights.
func NewSelector(weights SelectionWeights, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		weights: weights,
		logger:  logger.With(zap.String("component", "selector")),
	}
}

// Select returns the id of the best-scoring candidate for the required
// capabilities, or false when no candidate scores above zero.
func (s *Selector) Select(required []string, candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	bestID := ""
	bestScore := 0.0
	for _, c := range candidates {
		score := s.Score(required, c)
		if score > bestScore {
			bestScore = score
			bestID = c.ID
		}
	}

	if bestID == "" {
		return "", false
	}
	s.logger.Debug("worker selected",
		zap.String("worker_id", bestID),
		zap.Float64("score", bestScore),
		zap.Strings("required", required),
	)
	return bestID, true
}

// Score computes one candidate's total score.
func (s *Selector) Score(required []string, c Candidate) float64 {
	capScore := s.capabilityScore(required, c.Capabilities)
	perfScore := s.performanceScore(c.Performance)
	return capScore*s.weights.Capability + perfScore*s.weights.Performance
}

// capabilityScore is the fraction of required capabilities the candidate
// covers, using case-insensitive substring matching: a declared capability
// "coding" covers a requirement "code". An empty requirement set matches any
// worker with score 1.0.
func (s *Selector) capabilityScore(required, declared []string) float64 {
	if len(required) == 0 {
		return 1.0
	}

	matched := 0
	for _, req := range required {
		reqLower := strings.ToLower(req)
		for _, cap := range declared {
			if strings.Contains(strings.ToLower(cap), reqLower) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(required))
}

// performanceScore blends success rate with response speed. A worker that
// has not completed anything yet (average of zero) earns the full
// response-time contribution.
func (s *Selector) performanceScore(p PerformanceStats) float64 {
	responseScore := 1.0
	if p.AverageResponseTimeMs > 0 {
		responseScore = responseTimeCeilingMs / p.AverageResponseTimeMs
		if responseScore > 1.0 {
			responseScore = 1.0
		}
	}
	return p.SuccessRate*s.weights.SuccessRate + responseScore*s.weights.ResponseTime
}
