package runtime

// DefaultMaxRepeats is the number of consecutive selections of one name with
// an unchanged task allowed before the loop breaker trips.
const DefaultMaxRepeats = 2

// loopBreaker counts how many times each capability or agent name was
// selected with the same reframed task. A changed task resets the count.
type loopBreaker struct {
	max    int
	counts map[string]int
	tasks  map[string]string
}

func newLoopBreaker(max int) *loopBreaker {
	if max < 1 {
		max = DefaultMaxRepeats
	}
	return &loopBreaker{max: max, counts: make(map[string]int), tasks: make(map[string]string)}
}

// Allow records a selection of name for task and reports whether it may run.
// The selection that would exceed the bound is refused.
func (b *loopBreaker) Allow(name, task string) bool {
	if prev, ok := b.tasks[name]; !ok || prev != task {
		b.tasks[name] = task
		b.counts[name] = 0
	}
	b.counts[name]++
	return b.counts[name] <= b.max
}
