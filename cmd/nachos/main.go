// Command nachos boots the simulated machine: it opens a disk image
// built by cmd/mkdisk, boots the filesystem off it, loads the user
// executable named on the command line into a fresh address space and
// thread, and pumps the scheduler until that thread (and everything it
// forks) halts or finishes. The overall boot-then-dispatch shape is
// grounded on kernel/main.go's trapstub/trap_disk/trap_cons dispatch
// loop wiring interrupts to goroutines; here there is exactly one
// simulated CPU and no interrupt controller to program, so dispatch
// reduces to running the cooperative scheduler to completion. Actually
// executing the loaded program's instructions is the out-of-scope MIPS
// interpreter's job: without it, the loaded thread runs only the
// syscalls a test or a future interpreter integration drives directly.
package main

import (
	"flag"
	"fmt"
	"os"

	"nachos/console"
	"nachos/disk"
	"nachos/fs"
	"nachos/kernel"
	"nachos/mem"
	"nachos/thread"
)

func main() {
	image := flag.String("image", "", "disk image to boot (built by cmd/mkdisk)")
	flag.Parse()

	if *image == "" || flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: nachos -image <path> <executable>")
		os.Exit(1)
	}
	execPath := flag.Arg(0)

	dev, err := disk.Load(*image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nachos: loading %s: %v\n", *image, err)
		os.Exit(1)
	}

	sched := thread.NewScheduler()
	sd := disk.NewSynchDisk(sched, dev)
	physmem := mem.NewPhysmem()
	con := console.NewSynchConsole(sched, console.NewDevice(os.Stdin, os.Stdout))
	profiler := kernel.NewProfiler()

	var k *kernel.KernelCtx
	done := make(chan struct{})

	sched.Fork(func() {
		self := sched.Current()
		fsys := fs.Boot(self, sched, sd)
		k = kernel.NewKernel(sched, physmem, fsys, con)

		if err := k.Exec(self, execPath); err != 0 {
			fmt.Fprintf(os.Stderr, "nachos: exec %s: err=%d\n", execPath, err)
			close(done)
			return
		}
		// With no MIPS interpreter wired in, the freshly loaded
		// address space cannot execute; Halt stands in for "the
		// interpreter ran the program to completion."
		k.Halt(self)
		profiler.RecordFaults(self.Tid, self.AS)
		close(done)
	}, 0)

	sched.Boot()
	<-done

	fmt.Println(k.Diagnostics())

	if err := dev.Save(*image); err != nil {
		fmt.Fprintf(os.Stderr, "nachos: saving %s: %v\n", *image, err)
		os.Exit(1)
	}
}
