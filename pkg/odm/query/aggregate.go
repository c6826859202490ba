package query

import (
	"fmt"

	odmerrors "firestore-odm/pkg/errors"
	"firestore-odm/pkg/odm/schema"
)

// AggregationKind tags the variants of Aggregation.
type AggregationKind int

const (
	AggregationCount AggregationKind = iota + 1
	AggregationSum
	AggregationAverage
)

func (k AggregationKind) String() string {
	switch k {
	case AggregationCount:
		return "count"
	case AggregationSum:
		return "sum"
	case AggregationAverage:
		return "average"
	default:
		return fmt.Sprintf("AggregationKind(%d)", int(k))
	}
}

// Aggregation is one aggregate function.
type Aggregation struct {
	Kind AggregationKind
	Path string
}

func Count() Aggregation              { return Aggregation{Kind: AggregationCount} }
func Sum(path string) Aggregation     { return Aggregation{Kind: AggregationSum, Path: path} }
func Average(path string) Aggregation { return Aggregation{Kind: AggregationAverage, Path: path} }

// AggregateSpec maps output keys to aggregate functions.
type AggregateSpec map[string]Aggregation

// AggregateQuery pairs a query with the aggregations computed over its matches.
type AggregateQuery[T any] struct {
	Query *Query[T]
	Spec  AggregateSpec
}

// NewAggregate builds an AggregateQuery.
func NewAggregate[T any](q *Query[T], spec AggregateSpec) AggregateQuery[T] {
	return AggregateQuery[T]{Query: q, Spec: spec}
}

// ValidateAggregateSpec checks keys, kinds and field paths of spec against s.
func ValidateAggregateSpec(s schema.Schema, spec AggregateSpec) error {
	if len(spec) == 0 {
		return odmerrors.NewValidationError("aggregate spec must not be empty").WithCause(odmerrors.ErrInvalidQuery)
	}
	for key, agg := range spec {
		if key == "" {
			return odmerrors.NewValidationError("aggregate output key must not be empty").WithCause(odmerrors.ErrInvalidQuery)
		}
		switch agg.Kind {
		case AggregationCount:
		case AggregationSum, AggregationAverage:
			if _, err := schema.ValidateField(s, agg.Path); err != nil {
				return err
			}
		default:
			return odmerrors.NewUnreachableError("aggregation", agg)
		}
	}
	return nil
}
