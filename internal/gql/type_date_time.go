package gql

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DateTime represents a custom scalar for time.Time values
type DateTime struct {
	time.Time
}

// ImplementsGraphQLType returns the GraphQL type name
func (DateTime) ImplementsGraphQLType(name string) bool {
	return name == "DateTime"
}

// UnmarshalGraphQL unmarshals a GraphQL DateTime value
func (t *DateTime) UnmarshalGraphQL(input interface{}) error {
	switch input := input.(type) {
	case string:
		parsedTime, err := time.Parse(time.RFC3339, input)
		if err != nil {
			return fmt.Errorf("failed to parse DateTime: %w", err)
		}
		t.Time = parsedTime
		return nil
	case time.Time:
		t.Time = input
		return nil
	default:
		return fmt.Errorf("invalid DateTime type: %T", input)
	}
}

// MarshalJSON marshals DateTime to JSON (RFC3339 format, UTC)
func (t DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}

// NewDateTimeFromNumericDate converts a JWT time claim; a missing claim maps
// to the zero time.
func NewDateTimeFromNumericDate(date *jwt.NumericDate) DateTime {
	if date == nil {
		return DateTime{}
	}
	return DateTime{Time: date.Time}
}
