package llm

// Usage reports token consumption for one model call. Cache counters are nil
// when the vendor did not report them.
type Usage struct {
	Input      int64
	Output     int64
	CacheRead  *int64
	CacheWrite *int64
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

func addOptional(a, b *int64) *int64 {
	if a == nil && b == nil {
		return nil
	}
	var sum int64
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}

// Add returns the field-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Input:      u.Input + other.Input,
		Output:     u.Output + other.Output,
		CacheRead:  addOptional(u.CacheRead, other.CacheRead),
		CacheWrite: addOptional(u.CacheWrite, other.CacheWrite),
	}
}

// clone returns a copy that shares no pointers with u.
func (u Usage) clone() Usage {
	out := Usage{Input: u.Input, Output: u.Output}
	if u.CacheRead != nil {
		out.CacheRead = Int64(*u.CacheRead)
	}
	if u.CacheWrite != nil {
		out.CacheWrite = Int64(*u.CacheWrite)
	}
	return out
}

// CacheReadTokens returns the cache read count, or zero when unreported.
func (u Usage) CacheReadTokens() int64 {
	if u.CacheRead == nil {
		return 0
	}
	return *u.CacheRead
}

// CacheWriteTokens returns the cache write count, or zero when unreported.
func (u Usage) CacheWriteTokens() int64 {
	if u.CacheWrite == nil {
		return 0
	}
	return *u.CacheWrite
}
