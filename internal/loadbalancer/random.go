package loadbalancer

import "math/rand"

type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

// Returns a random target
func (r *Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	return targets[rand.Intn(len(targets))]
}

func (r *Random) Name() string {
	return "random"
}
