package migration

import "fmt"

// topoSort orders pending by Dependencies using a depth-first visit,
// detecting cycles before any Up runs, per spec §4.8. Candidates are
// visited in ascending version order first so the output is
// deterministic when no dependency relationship forces an order.
func topoSort(pending map[string]*Migration) ([]string, error) {
	ordered := make([]string, 0, len(pending))
	for version := range pending {
		ordered = append(ordered, version)
	}
	sortVersions(ordered)

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(pending))
	result := make([]string, 0, len(pending))

	var visit func(version string, path []string) error
	visit = func(version string, path []string) error {
		switch state[version] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("circular migration dependency involving %q", version)
		}

		mig, ok := pending[version]
		if !ok {
			// A dependency on an already-applied or unknown version
			// is skipped; neither this function nor Migrate checks
			// that such a dependency exists.
			return nil
		}

		state[version] = visiting
		for _, dep := range mig.Dependencies {
			if _, isPending := pending[dep]; !isPending {
				continue
			}
			if err := visit(dep, append(path, version)); err != nil {
				return err
			}
		}
		state[version] = visited
		result = append(result, version)
		return nil
	}

	for _, version := range ordered {
		if err := visit(version, nil); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func sortVersions(versions []string) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && compareVersions(versions[j-1], versions[j]) > 0; j-- {
			versions[j-1], versions[j] = versions[j], versions[j-1]
		}
	}
}
