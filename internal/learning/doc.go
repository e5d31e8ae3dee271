// Package learning implements tabular Q-learning for a fleet of agents.
//
// # Knowledge hierarchy
//
// Q-values live in three kinds of tables:
//
//   - individual: one per agent, written by Learn and Replay
//   - category: shared by the agents of one category, written by the aggregator
//   - fleet: one table for everyone, written by the aggregator
//
// Action selection exploits the most specific table that knows the state and
// falls back towards the fleet, so new agents start from what their peers
// already learned.
//
// # Concurrency
//
// Any number of processes may learn against the same backend. Every write is
// read, compute, conditional write on the row version; a lost race re-reads
// and retries with randomized backoff. Nothing in this package holds a lock
// across a Q-value update.
//
// # Update rule
//
//	target = r                        if the transition is terminal
//	target = r + gamma * max_a' Q(s', a')  otherwise
//	Q(s, a) = Q(s, a) + alpha * (target - Q(s, a))
package learning
