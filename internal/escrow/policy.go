package escrow

// CanReleaseMilestoneInOrder reports whether the milestone at index may be
// released given the on-chain mirror: index 0 always may, index N only once
// milestones 0..N-1 are all released on-chain. A nil or empty mirror blocks
// everything past index 0. The contract remains the real enforcer; this only
// keeps obviously invalid release calls from being built.
func CanReleaseMilestoneInOrder(mirror *Mirror, index int) bool {
	if index < 0 {
		return false
	}
	if index == 0 {
		return true
	}
	if mirror == nil || len(mirror.Milestones) == 0 {
		return false
	}
	for i := 0; i < index; i++ {
		if !mirror.Milestone(i).IsReleased() {
			return false
		}
	}
	return true
}

// CanRelease looks the contract up and applies CanReleaseMilestoneInOrder.
func (ms Mirrors) CanRelease(contractID string, index int) bool {
	return CanReleaseMilestoneInOrder(ms[contractID], index)
}
