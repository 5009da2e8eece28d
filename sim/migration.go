package sim

// NeverEmigrationExit keeps every lineage in the partition. It is the exit of
// a monolithic simulation.
type NeverEmigrationExit struct{}

// OptionallyEmigrate implements EmigrationExit.
func (NeverEmigrationExit) OptionallyEmigrate(MigratingLineage) bool { return true }

// NeverImmigrationEntry has no immigrants.
type NeverImmigrationEntry struct{}

func (NeverImmigrationEntry) NextOptionalImmigration(float64, bool) (MigratingLineage, bool) {
	return MigratingLineage{}, false
}

func (NeverImmigrationEntry) Peek() (MigratingLineage, bool) { return MigratingLineage{}, false }

func (NeverImmigrationEntry) Pending() int { return 0 }

func (NeverImmigrationEntry) PendingLineages() []MigratingLineage { return nil }
