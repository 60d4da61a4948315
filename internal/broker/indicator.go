package broker

import "github.com/rs/zerolog/log"

// Indicator displays the number of requests awaiting approval.
// SetPending is called with the broker lock held and must not block.
type Indicator interface {
	SetPending(n int)
}

type nopIndicator struct{}

func (nopIndicator) SetPending(int) {}

// LogIndicator logs every change of the pending count
type LogIndicator struct{}

func (LogIndicator) SetPending(n int) {
	log.Debug().Int("pending", n).Msg("Pending approvals")
}

// Indicators fans a count out to several indicators
func Indicators(list ...Indicator) Indicator {
	return multiIndicator(list)
}

type multiIndicator []Indicator

func (m multiIndicator) SetPending(n int) {
	for _, i := range m {
		if i != nil {
			i.SetPending(n)
		}
	}
}
