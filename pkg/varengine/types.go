package varengine

import "time"

// Run identifies a server-side run. Seed is carried as a string in JSON
// because it does not fit in a JavaScript number.
type Run struct {
	RunID        string    `json:"runId"`
	Symbol       string    `json:"symbol"`
	Source       string    `json:"source"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	Observations int       `json:"observations"`
	Seed         uint64    `json:"seed,string"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Level holds every method's VaR at one confidence level.
type Level struct {
	Confidence float64 `json:"confidence"`
	Historical float64 `json:"historical"`
	Parametric float64 `json:"parametric"`
	MonteCarlo float64 `json:"monteCarlo"`
}

// Recommendation is the comparator verdict.
type Recommendation struct {
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Spread     float64 `json:"spread"`
	Threshold  float64 `json:"threshold"`
	Diverged   bool    `json:"diverged"`
	Message    string  `json:"message"`
}

// Limit is the loss limit annotation. It is omitted when no limit is
// configured.
type Limit struct {
	Limit    float64 `json:"limit"`
	Observed float64 `json:"observed"`
	Breached bool    `json:"breached"`
}

// CompareResponse is returned by GET /api/compare.
type CompareResponse struct {
	Run            Run            `json:"run"`
	Simulations    int            `json:"simulations"`
	Horizon        int            `json:"horizon"`
	Levels         []Level        `json:"levels"`
	Recommendation Recommendation `json:"recommendation"`
	Interpretation string         `json:"interpretation"`
	Limit          *Limit         `json:"limit,omitempty"`
}

// Metric is the terminal VaR at one confidence level.
type Metric struct {
	Confidence  float64 `json:"confidence"`
	TerminalVaR float64 `json:"terminalVar"`
	LossPercent float64 `json:"lossPercent"`
}

// Histogram is the binned terminal distribution; Edges has one more entry
// than Counts.
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

// SimulateResponse is returned by GET /api/simulate.
type SimulateResponse struct {
	Run            Run         `json:"run"`
	Paths          int         `json:"paths"`
	Horizon        int         `json:"horizon"`
	BasePrice      float64     `json:"basePrice"`
	Drift          float64     `json:"drift"`
	Volatility     float64     `json:"volatility"`
	Metrics        []Metric    `json:"metrics"`
	MeanOutcome    float64     `json:"meanOutcome"`
	MedianOutcome  float64     `json:"medianOutcome"`
	Interpretation string      `json:"interpretation"`
	Histogram      Histogram   `json:"histogram"`
	SamplePaths    [][]float64 `json:"samplePaths,omitempty"`
	Limit          *Limit      `json:"limit,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
