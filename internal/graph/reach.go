package graph

// Transitive returns every job reachable from start by repeatedly following
// direct neighbours in dir.
//
// A job whose name is in finalNames is part of the result but is not
// expanded, so nothing beyond it is visited through that path. A nil
// finalNames means no stop-set. start itself is never part of the result,
// even when a cycle leads back to it.
//
// The result holds each job once, in breadth-first discovery order.
func Transitive(p Provider, start Job, dir Direction, finalNames []string) []Job {
	final := make(map[string]struct{}, len(finalNames))
	for _, name := range finalNames {
		final[name] = struct{}{}
	}

	visited := make(Set)
	var result []Job
	queue := []Job{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range Neighbors(p, current, dir) {
			if next == start || visited.Contains(next) {
				continue
			}
			visited[next] = struct{}{}
			result = append(result, next)

			if _, stop := final[next.Name()]; stop {
				// Boundary job: checked by the caller, not crossed.
				continue
			}
			queue = append(queue, next)
		}
	}
	return result
}

// Closure returns the full transitive closure of start in dir.
func Closure(p Provider, start Job, dir Direction) []Job {
	return Transitive(p, start, dir, nil)
}
