// Package buyer holds the buyer profile view joined into order reads.
package buyer

// Profile is a buyer snapshot without credentials or contact email.
type Profile struct {
	ID     string
	Name   string
	Phone  string
	Avatar string
}
