// Package sequence computes per-service ticket labels.
//
// A service carries a (letter, number) pair. The ticket issued from a pair
// gets the label for that pair; the pair then advances: numbers run 00..99,
// and on overflow the letter steps A..E before wrapping back to A.
package sequence

import "fmt"

const (
	FirstLetter = 'A'
	LastLetter  = 'E'
	MaxNumber   = 99
)

type State struct {
	Letter byte
	Number int
}

// Initial is the state a service starts from and returns to on reset.
func Initial() State {
	return State{Letter: FirstLetter, Number: 0}
}

// Next returns the label for the current state and the state that follows it.
func Next(prefix string, current State) (string, State) {
	label := Format(prefix, current)

	next := State{Letter: current.Letter, Number: current.Number + 1}
	if next.Number > MaxNumber {
		next.Number = 0
		next.Letter = current.Letter + 1
		if next.Letter > LastLetter {
			next.Letter = FirstLetter
		}
	}
	return label, next
}

func Format(prefix string, state State) string {
	return fmt.Sprintf("%s-%c%02d", prefix, state.Letter, state.Number)
}

// Valid reports whether the state is inside the label space.
func Valid(state State) bool {
	return state.Letter >= FirstLetter && state.Letter <= LastLetter &&
		state.Number >= 0 && state.Number <= MaxNumber
}

// FromService adapts the stored string letter to a State.
func FromService(letter string, number int) (State, error) {
	if len(letter) != 1 {
		return State{}, fmt.Errorf("invalid sequence letter %q", letter)
	}
	state := State{Letter: letter[0], Number: number}
	if !Valid(state) {
		return State{}, fmt.Errorf("sequence state %s out of range", Format("", state))
	}
	return state, nil
}

func (s State) LetterString() string {
	return string(s.Letter)
}
