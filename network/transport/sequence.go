package transport

const (
	// AckWindow is the number of earlier sequences acknowledged per datagram
	AckWindow = 32

	// SequenceMaxSize is the size of the sequence space; sequences wrap to 0
	SequenceMaxSize = 1 << 16

	halfSequence = SequenceMaxSize / 2

	// HeaderSize is [local seq:2][remote seq:2][ack bits:4]
	HeaderSize = 2 + 2 + AckWindow/8
)

// SequenceMoreRecent reports whether s1 was issued after s2, treating the
// sequence space as a circle split in half.
func SequenceMoreRecent(s1, s2 uint16) bool {
	return (s1 > s2 && s1-s2 <= halfSequence) || (s2 > s1 && s2-s1 > halfSequence)
}

// sequenceAge is how many sequences older than latest s is
func sequenceAge(latest, s uint16) uint16 {
	return latest - s
}
