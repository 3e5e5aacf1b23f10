package canvas

// Limits holds the business rules a workspace graph enforces
type Limits struct {
	MaxNodes         int
	MaxEdges         int
	MaxTitleLength   int
	MaxContentLength int
}

// DefaultLimits returns the default graph limits
func DefaultLimits() Limits {
	return Limits{
		MaxNodes:         10000,
		MaxEdges:         50000,
		MaxTitleLength:   500,
		MaxContentLength: 50000,
	}
}

// ProductionLimits returns the stricter production limits
func ProductionLimits() Limits {
	l := DefaultLimits()
	l.MaxNodes = 5000
	l.MaxEdges = 25000
	l.MaxContentLength = 20000
	return l
}

// DevelopmentLimits returns permissive limits for local work
func DevelopmentLimits() Limits {
	l := DefaultLimits()
	l.MaxNodes = 100000
	l.MaxEdges = 500000
	return l
}

// LoadLimits picks limits for an environment name
func LoadLimits(environment string) Limits {
	switch environment {
	case "production":
		return ProductionLimits()
	case "development":
		return DevelopmentLimits()
	default:
		return DefaultLimits()
	}
}
