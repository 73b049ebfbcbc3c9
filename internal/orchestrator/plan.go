package orchestrator

import (
	"sort"

	"github.com/Josepavese/nidolab/internal/lab"
)

// Direction selects how batches are ordered by boot order.
type Direction int

const (
	// DirectionStart orders batches by ascending boot order.
	DirectionStart Direction = iota
	// DirectionStop orders batches by descending boot order.
	DirectionStop
)

func (d Direction) String() string {
	if d == DirectionStop {
		return "stop"
	}
	return "start"
}

// Batch is the set of nodes sharing one boot order.
type Batch struct {
	BootOrder int                  `json:"boot_order"`
	Nodes     []lab.NodeAttributes `json:"nodes"`
}

// Delay is the longest boot delay among the batch members, in seconds.
func (b Batch) Delay() int {
	delay := 0
	for _, n := range b.Nodes {
		delay = max(delay, n.BootDelay)
	}
	return delay
}

// DisplayNames returns the backend names of the batch members.
func (b Batch) DisplayNames() []string {
	return displayNames(b.Nodes)
}

// Plan groups nodes by boot order and orders the groups for the direction.
// Members keep their input order inside a batch. No nodes, no batches.
func Plan(nodes []lab.NodeAttributes, dir Direction) []Batch {
	groups := make(map[int][]lab.NodeAttributes)
	for _, n := range nodes {
		groups[n.BootOrder] = append(groups[n.BootOrder], n)
	}

	orders := make([]int, 0, len(groups))
	for o := range groups {
		orders = append(orders, o)
	}
	if dir == DirectionStop {
		sort.Sort(sort.Reverse(sort.IntSlice(orders)))
	} else {
		sort.Ints(orders)
	}

	batches := make([]Batch, 0, len(orders))
	for _, o := range orders {
		batches = append(batches, Batch{BootOrder: o, Nodes: groups[o]})
	}
	return batches
}

// RestoreOrder is the flat, one-node-at-a-time sequence used by restore:
// ascending boot order, input order among equals.
func RestoreOrder(nodes []lab.NodeAttributes) []lab.NodeAttributes {
	ordered := append([]lab.NodeAttributes(nil), nodes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].BootOrder < ordered[j].BootOrder
	})
	return ordered
}

func displayNames(nodes []lab.NodeAttributes) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.DisplayName
	}
	return names
}
