package grab

// node is a ternary search trie node. Its children hang off child as a
// binary tree ordered by Key.Compare through low and high.
type node struct {
	label     Key
	child     *node
	low, high *node
	value     interface{}
	set       bool
}

func (n *node) get(k Key) *node {
	curr := n.child
	for curr != nil {
		switch k.Compare(curr.label) {
		case 0:
			return curr
		case -1:
			curr = curr.low
		default:
			curr = curr.high
		}
	}
	return nil
}

// dig finds or creates the child labelled k.
func (n *node) dig(k Key) *node {
	link := &n.child
	for *link != nil {
		switch k.Compare((*link).label) {
		case 0:
			return *link
		case -1:
			link = &(*link).low
		default:
			link = &(*link).high
		}
	}
	*link = &node{label: k}
	return *link
}

func (n *node) hasChildren() bool {
	return n.child != nil
}

// each visits the children of n in key order until proc returns false.
func (n *node) each(proc func(*node) bool) {
	var walk func(*node) bool
	walk = func(c *node) bool {
		if c == nil {
			return true
		}
		return walk(c.low) && proc(c) && walk(c.high)
	}
	walk(n.child)
}

// count returns the number of values stored below n.
func (n *node) count() int {
	total := 0
	n.each(func(c *node) bool {
		if c.set {
			total++
		}
		total += c.count()
		return true
	})
	return total
}
