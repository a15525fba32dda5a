// Package service provides the people fetchers the controller drives: an
// in-process one backed by the local store and an HTTP client for a
// remote people API.
package service

import (
	"net/url"

	"github.com/pders01/roster/internal/people"
)

// PeoplePath is where the people API is served.
const PeoplePath = "/api/people"

// PeopleResponse is the body of a successful people request.
type PeopleResponse struct {
	People []people.Person `json:"people"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EncodeFilter turns filter into query parameters. The employment key is
// always present so an empty set survives the round trip.
func EncodeFilter(filter people.Filter) url.Values {
	v := url.Values{}
	v.Set("query", filter.Query)
	v.Set("employment", filter.Employment.String())
	return v
}

// DecodeFilter is the inverse of EncodeFilter. A missing employment key
// selects every kind.
func DecodeFilter(v url.Values) (people.Filter, error) {
	filter := people.DefaultFilter().WithQuery(v.Get("query"))
	if _, ok := v["employment"]; !ok {
		return filter, nil
	}
	set, err := people.ParseEmploymentSet(v.Get("employment"))
	if err != nil {
		return people.Filter{}, err
	}
	return filter.WithEmployment(set), nil
}
