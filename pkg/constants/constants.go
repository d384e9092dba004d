package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "p3gm"
	AppDescription = "Privacy-preserving phased generative model"
	AppVersion     = "0.1.0"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default server values
	DefaultPort            = 8080
	DefaultHost            = "0.0.0.0"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsPort     = 9091
	DefaultMetricsPath     = "/metrics"
	MaxRequestSize         = 1 << 20

	// Network defaults
	DefaultZDim         = 10
	DefaultHiddenDim    = 1000
	DefaultLearningRate = 1e-3
	DefaultBatchSize    = 100
	DefaultEpochs       = 10

	// Privacy defaults
	DefaultDelta         = 1e-5
	DefaultPCASigma      = 5.0
	DefaultGMMSigma      = 2.0
	DefaultSGDSigma      = 1.0
	DefaultGMMComponents = 10
	DefaultGMMIterations = 5
	DefaultClipNorm      = 1.0
	DefaultMicrobatches  = 3
	DefaultMaxEpsilon    = 0 // no ceiling

	// Decoder warm start
	DefaultPretrainIterations = 3000
	DefaultPretrainBatchSize  = 100
	DefaultPretrainLR         = 1e-3

	// Generation limits
	DefaultSampleCount = 1000
	MaxSampleCount     = 100000

	// Storage defaults
	DefaultStorageType = "file"
	DefaultModelDir    = "./models"
	DefaultS3Prefix    = "p3gm"
)

// HTTP headers
const (
	HeaderContentType  = "Content-Type"
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)
