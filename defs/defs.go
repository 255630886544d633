// Package defs holds the constants and basic types shared by every
// layer of the kernel: the simulated machine's geometry, the kernel-wide
// error kind, and the identifiers used to name threads and processes.
//
// Tunables live here as plain Go constants rather than as runtime
// configuration, matching biscuit's habit (mem.PGSHIFT, mem.PGSIZE,
// limits.Syslimit) of fixing geometry at compile time.
package defs

// Err_t is the kernel's error-kind type: zero means success, a negative
// value names a failure. Syscalls return -Err_t as the user-visible
// return code; hardware traps classify into the same space.
type Err_t int

// Error kinds. Hardware-level errors come from the translation/fault
// path; filesystem and syscall errors come from the FS core and the
// syscall dispatcher.
const (
	EFAULT  Err_t = 1 // misaligned or out-of-bounds virtual address
	EBUSERR Err_t = 2 // translation pointed at a corrupt/OOB frame
	ERDONLY Err_t = 3 // write to a read-only page

	ENOENT  Err_t = 10 // NoSuchPath
	EEXIST  Err_t = 11 // AlreadyExists
	ENOSPC  Err_t = 12 // NoSpace (disk or directory full)
	ENOTDIR Err_t = 13 // WrongType (file where dir expected)
	EISDIR  Err_t = 14 // WrongType (dir where file expected)
	EBUSY   Err_t = 15 // Busy (remove with refcount > 0)

	EBADF  Err_t = 20 // BadFileDescriptor
	EIO    Err_t = 21 // IOError
	EINVAL Err_t = 22
)

// Tid_t names a thread. Tids are assigned in Fork order, starting at 0.
type Tid_t int

// Pid_t names a process (the set of threads sharing one address space's
// identity for Exec/Fork/Join bookkeeping).
type Pid_t int

// Simulated-machine geometry. These are fixed at compile time.
const (
	// SectorSize is the size in bytes of one disk sector, and also the
	// size of one physical frame and one virtual page: a frame is
	// defined to be the same size as a sector.
	SectorSize = 128
	PageSize   = SectorSize

	// Default simulated-disk geometry for a freshly created image.
	SectorsPerTrack = 32
	NumTracks       = 32
	NumSectors      = SectorsPerTrack * NumTracks

	// NumPhysPages is the number of physical frames the simulated
	// machine provides.
	NumPhysPages = 32

	// TLBSize is the number of associative entries in the software
	// TLB.
	TLBSize = 4

	// MaxThreads bounds the number of threads fork() will create
	// before failing.
	MaxThreads = 128

	// UserStackSize is the fixed size of a new process's stack
	// segment, matching addrspace.cc's UserStackSize.
	UserStackSize = 16 * PageSize
)

// File-header geometry. The header occupies exactly one sector: 6
// fixed int32 fields plus a
// TotalEntry-slot index array.
const (
	headerFixedFields = 6
	TotalEntry        = SectorSize/4 - headerFixedFields
	NumDirect         = 20
	SecondDirect      = TotalEntry - NumDirect
	NumFirstDirect    = SectorSize / 4

	MaxFileSize = (NumDirect + SecondDirect*NumFirstDirect) * SectorSize
)

// Directory geometry.
const (
	FileNameMaxLen     = 9
	DirectoryEntrySize = 20 // InUse(4) + Name(9+1) + HeaderSector(4), padded to 20
	NumDirEntries      = 10
	DirectoryFileSize  = NumDirEntries * DirectoryEntrySize
)

// Well-known header sectors.
const (
	BitmapSector = 0
	RootSector   = 1
)

// FileType distinguishes a plain file header from a directory header.
type FileType int

const (
	FileTypeFile FileType = iota
	FileTypeDir
)

// Syscall numbers. Matches the register-2/registers-4-7 argument ABI.
type Syscall int

const (
	SysHalt Syscall = iota
	SysExit
	SysExec
	SysFork
	SysJoin
	SysYield
	SysCreate
	SysOpen
	SysClose
	SysRead
	SysWrite
	SysPrint
)

// File descriptors 0 and 1 are wired to the console.
const (
	FdConsoleIn  = 0
	FdConsoleOut = 1
)

// PrintMode selects how Print renders its argument.
type PrintMode int

const (
	PrintInt PrintMode = iota
	PrintChar
	PrintString
)
