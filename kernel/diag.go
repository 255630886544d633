package kernel

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"nachos/defs"
)

// Diagnostics renders a multi-line, human-readable dump of frame
// table, filesystem, and scheduler occupancy. The frame and process
// counts are grouped by thousands separators; the scheduler and
// filesystem lines are those subsystems' own String() output, printed
// as-is. biscuit's own kernel leans on
// hand-rolled Statistics()/String() one-liners (see mem.Physmem_t,
// fs.FileSystem_t, thread.Scheduler_t); this is the one place in this
// repo a formatted operator-facing report is worth pulling in a real
// i18n-aware number formatter for, since a simulated run can rack up
// page-fault and tick counts well past the point bare %d output reads
// comfortably.
func (k *KernelCtx) Diagnostics() string {
	p := message.NewPrinter(language.English)
	var b strings.Builder

	free := k.Physmem.NumFree()
	p.Fprintf(&b, "physical memory: %v of %v frames free\n", number.Decimal(free), number.Decimal(defs.NumPhysPages))

	k.mu.Lock()
	nprocs := len(k.procs)
	halted := k.halted
	k.mu.Unlock()
	p.Fprintf(&b, "processes tracked: %v (halted=%v)\n", number.Decimal(nprocs), halted)

	p.Fprintf(&b, "scheduler: %s\n", k.Sched.String())
	p.Fprintf(&b, "filesystem: %s\n", k.FS.String())

	return b.String()
}
