package domain

import "fmt"

// Question is one entry of a message's question section. The name keeps the
// case the client sent; matching against stored records is case-insensitive.
type Question struct {
	Name  string
	Type  RRType
	Class RRClass
}

// NewQuestion constructs a Question with class IN.
func NewQuestion(name string, rrtype RRType) Question {
	return Question{Name: name, Type: rrtype, Class: RRClassIN}
}

// Validate checks that the question can be served.
func (q Question) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("query name must not be empty")
	}
	if !q.Type.IsValid() {
		return fmt.Errorf("unsupported RRType: %d", q.Type)
	}
	return nil
}

// StoreKey returns the key shared by the record store and the result cache.
func (q Question) StoreKey() string {
	return StoreKey(q.Name, q.Type)
}

func (q Question) String() string {
	return fmt.Sprintf("%s %s", q.Name, q.Type)
}
