package testutil

import (
	"fmt"
	"time"
)

// WithFinishedSessions adds n completed 25 minute sessions named s1..sn,
// started one hour apart from Epoch.
func (b *Builder) WithFinishedSessions(n int, opts ...SessionOption) *Builder {
	for i := range n {
		all := append([]SessionOption{
			StartedAt(Epoch.Add(time.Duration(i) * time.Hour)),
			Completed(25 * time.Minute),
		}, opts...)
		b.WithSession(fmt.Sprintf("s%d", i+1), all...)
	}
	return b
}

// WithMixedHistory adds one completed, one aborted and one subscribed
// completed session, followed by an active one.
func (b *Builder) WithMixedHistory() *Builder {
	return b.
		WithSession("done", StartedAt(Epoch), Completed(25*time.Minute),
			Attempts(map[string]int{"com.example.video": 2})).
		WithSession("aborted", StartedAt(Epoch.Add(time.Hour)), Aborted(time.Minute)).
		WithSession("paid", StartedAt(Epoch.Add(2*time.Hour)), Subscribed(), Completed(25*time.Minute)).
		WithSession("current", StartedAt(Epoch.Add(3*time.Hour)), Minutes(0),
			Apps("com.example.chat", "com.example.video"))
}
