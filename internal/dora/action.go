package dora

// Action is one partition-local unit of work belonging to a decomposed
// transaction. Every action created for one transaction shares the same
// RVP, which its Run's completion (success or error) posts to.
type Action struct {
	Name      string
	Partition int
	Run       func() error

	rvp *RVP
}

// NewAction builds an Action bound to rvp. name is used only for logging
// and test failure messages.
func NewAction(name string, partition int, rvp *RVP, run func() error) *Action {
	return &Action{Name: name, Partition: partition, Run: run, rvp: rvp}
}

// execute runs the action's work function and posts its outcome to its
// RVP. Called only by the owning Partition's worker goroutine, so two
// actions of the same partition never execute concurrently.
func (a *Action) execute() {
	err := a.Run()
	a.rvp.Post(err)
}
