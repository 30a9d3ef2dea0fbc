//go:build linux && (amd64 || 386)

package bts

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/covswarm/cfd-driver/internal/reduce"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	btsTypeFile = "/sys/bus/event_source/devices/intel_bts/type"

	perfMapPages = 512  // data ring, in pages, excluding the control page
	perfAuxPages = 1024 // aux ring, in pages

	// perf_event_attr.flags bits this driver cares about.
	peFlagDisabled      = 1 << 0
	peFlagExcludeKernel = 1 << 5

	perfEventIocEnable = 0x2400 // _IO('$', 0)

	// Byte offsets into struct perf_event_mmap_page's control page; fixed
	// by the kernel ABI (the reserved padding between `size` and
	// `data_head` is defined to bring data_head to byte 1024).
	offDataHead   = 1024
	offDataTail   = 1032
	offDataOffset = 1040
	offDataSize   = 1048
	offAuxHead    = 1056
	offAuxTail    = 1064
	offAuxOffset  = 1072
	offAuxSize    = 1080

	bstRecordSize = 24 // sizeof(from, to, misc), each a uint64

	// kernelSpaceCutoff matches reduce's own cutoff; traces are filtered
	// again downstream, but we never even want to intern kernel-space
	// garbage records here.
	kernelSpaceCutoff = 0xFFFFFFFF00000000
)

// perfEventAttr mirrors struct perf_event_attr up through aux_watermark.
// Field order and sizes are load-bearing: this is read directly by the
// kernel via perf_event_open(2), not through any Go-side marshaling.
type perfEventAttr struct {
	Type             uint32
	Size             uint32
	Config           uint64
	SamplePeriod     uint64
	SampleType       uint64
	ReadFormat       uint64
	Flags            uint64
	Wakeup           uint32
	BPType           uint32
	BPAddr           uint64
	BPLen            uint64
	BranchSampleType uint64
	SampleRegsUser   uint64
	SampleStackUser  uint32
	ClockID          int32
	SampleRegsIntr   uint64
	AuxWatermark     uint32
	_                uint32 // padding to a multiple of 8
}

// perfAttrSize is computed rather than hand-counted so a struct field
// change cannot silently desync it from the layout the kernel sees.
var perfAttrSize = uint32(unsafe.Sizeof(perfEventAttr{}))

// Tracer runs SUT invocations one at a time under ptrace + BTS tracing.
type Tracer struct {
	log     *logrus.Entry
	btsType int32 // -1 until lazily resolved
}

// New returns a Tracer bound to log. The BTS type id is read from sysfs on
// the first Trace call, not here, so construction never fails on an
// unsupported kernel.
func New(log *logrus.Entry) *Tracer {
	return &Tracer{log: log, btsType: -1}
}

func (t *Tracer) resolveBTSType() error {
	if t.btsType >= 0 {
		return nil
	}
	data, err := os.ReadFile(btsTypeFile)
	if err != nil {
		return fmt.Errorf("Intel BTS not supported (reading %s): %w", btsTypeFile, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return fmt.Errorf("parsing BTS type from %s: %w", btsTypeFile, err)
	}
	t.btsType = int32(n)
	t.log.WithField("bts_type", t.btsType).Debug("resolved Intel BTS perf type")
	return nil
}

// session holds the per-trace state the async-I/O signal handler needs
// lock-free access to. It is rebuilt for every Trace call and torn down at
// the end of it, rather than kept as long-lived global state.
type session struct {
	childPID  int
	dataReady int32 // accessed only via sync/atomic
}

// Trace persists inputBytes to sink, forks the SUT under ptrace, attaches a
// BTS performance counter to it, and returns every branch recorded during
// its execution.
func (t *Tracer) Trace(inputBytes []byte, sutArgv []string, sink Sink) ([]reduce.Branch, error) {
	if err := t.resolveBTSType(); err != nil {
		return nil, err
	}
	if len(sutArgv) == 0 {
		return nil, fmt.Errorf("sut argv must not be empty")
	}

	if err := os.WriteFile(sink.Path, inputBytes, 0o644); err != nil {
		return nil, fmt.Errorf("writing sut input scratch file %s: %w", sink.Path, err)
	}

	cmd := exec.Command(sutArgv[0], sutArgv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	if devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0); err == nil {
		defer devnull.Close()
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}

	var stdin *os.File
	if sink.Stdin {
		f, err := os.Open(sink.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sut input for stdin: %w", err)
		}
		defer f.Close()
		stdin = f
		cmd.Stdin = stdin
	}

	// exec.Cmd forks, dup2's Stdin onto fd 0 in the child, then the
	// parent's own copy of that descriptor is left to the deferred Close
	// above: open, dup2, close — never the reverse.
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting sut %s: %w", sutArgv[0], err)
	}
	childPID := cmd.Process.Pid

	sess := &session{childPID: childPID}

	branches, err := t.runParent(sess)
	if err != nil {
		_ = syscall.Kill(childPID, syscall.SIGKILL)
		return nil, err
	}
	return branches, nil
}

func (t *Tracer) runParent(sess *session) ([]reduce.Branch, error) {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGIO)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigCh:
				// Async-I/O handler contract: only a kill and an
				// atomic increment, nothing else, on this path.
				_ = syscall.Kill(sess.childPID, syscall.SIGTRAP)
				atomic.AddInt32(&sess.dataReady, 1)
			case <-done:
				return
			}
		}
	}()

	// Wait for the initial ptrace stop. With SysProcAttr.Ptrace set, the
	// kernel delivers this automatically right after execve, before the
	// sut's first instruction runs — equivalent in effect to the
	// reference's pre-exec self-raised SIGTRAP, since perf is attached
	// here in both cases before any instruction of the new image runs.
	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(sess.childPID, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("waiting for sut initial stop: %w", err)
	}
	if ws.Exited() || ws.Signaled() {
		return nil, fmt.Errorf("sut exited before tracing could start")
	}

	attr := perfEventAttr{
		Size:  perfAttrSize,
		Type:  uint32(t.btsType),
		Flags: peFlagDisabled | peFlagExcludeKernel,
	}

	fd, err := perfEventOpen(&attr, sess.childPID, -1, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("perf_event_open failed: %w", err)
	}
	defer unix.Close(fd)

	pageSize := os.Getpagesize()
	dataMapSize := pageSize * (perfMapPages + 1)
	dataBuf, err := unix.Mmap(fd, 0, dataMapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap perf data ring (%d bytes): %w", dataMapSize, err)
	}
	defer unix.Munmap(dataBuf)

	dataOffset := loadU64(dataBuf, offDataOffset)
	dataSize := loadU64(dataBuf, offDataSize)
	auxOffset := dataOffset + dataSize
	auxSize := uint64(pageSize * perfAuxPages)
	storeU64(dataBuf, offAuxOffset, auxOffset)
	storeU64(dataBuf, offAuxSize, auxSize)

	auxBuf, err := unix.Mmap(fd, int64(auxOffset), int(auxSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap perf aux ring (%d bytes): %w", auxSize, err)
	}
	defer unix.Munmap(auxBuf)

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, unix.O_RDWR|unix.O_NONBLOCK|unix.O_ASYNC); err != nil {
		return nil, fmt.Errorf("fcntl F_SETFL on perf fd: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETSIG, int(unix.SIGIO)); err != nil {
		return nil, fmt.Errorf("fcntl F_SETSIG on perf fd: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETOWN, os.Getpid()); err != nil {
		return nil, fmt.Errorf("fcntl F_SETOWN on perf fd: %w", err)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(perfEventIocEnable), 0); errno != 0 {
		return nil, fmt.Errorf("PERF_EVENT_IOC_ENABLE: %w", errno)
	}

	var branches []reduce.Branch
	for {
		if err := syscall.PtraceCont(sess.childPID, 0); err != nil {
			branches = append(branches, reapAux(dataBuf, auxBuf)...)
			return branches, fmt.Errorf("ptrace cont: %w", err)
		}

		if _, err := syscall.Wait4(sess.childPID, &ws, 0, nil); err != nil {
			if err == syscall.EINTR {
				continue
			}
			branches = append(branches, reapAux(dataBuf, auxBuf)...)
			return branches, fmt.Errorf("waitpid: %w", err)
		}

		if atomic.LoadInt32(&sess.dataReady) > 0 {
			atomic.AddInt32(&sess.dataReady, -1)
			branches = append(branches, reapAux(dataBuf, auxBuf)...)
		}

		if ws.Exited() || ws.Signaled() {
			break
		}
		if ws.Stopped() && ws.StopSignal() != syscall.SIGTRAP {
			break
		}
	}

	branches = append(branches, reapAux(dataBuf, auxBuf)...)
	storeU64(dataBuf, offAuxHead, 0)
	storeU64(dataBuf, offAuxTail, 0)
	return branches, nil
}

// reapAux reads every complete BTS record newly visible in the aux ring
// since the last aux_tail we wrote, then advances aux_tail past them so the
// kernel can reuse that space. Go's atomic load on amd64 is already
// sequentially consistent, which is strictly stronger than the read
// barrier the reference inserts after loading aux_head; no separate fence
// instruction is required here.
func reapAux(dataBuf, auxBuf []byte) []reduce.Branch {
	head := loadU64(dataBuf, offAuxHead)
	tail := loadU64(dataBuf, offAuxTail)
	if head <= tail {
		return nil
	}

	size := uint64(len(auxBuf))
	avail := head - tail
	if avail > size {
		// Consumer fell behind and the kernel wrapped over unread data;
		// the oldest records are already gone, skip to what remains.
		tail = head - size
		avail = size
	}

	out := make([]reduce.Branch, 0, avail/bstRecordSize)
	for off := tail; off+bstRecordSize <= tail+avail; off += bstRecordSize {
		i := off % size
		if i+bstRecordSize > size {
			// Record straddles the ring wraparound point; the reference
			// implementation never produces these because aux records
			// are written contiguously within a wakeup segment, so treat
			// it as end-of-data rather than reassembling a split record.
			break
		}
		from := nativeU64(auxBuf[i : i+8])
		to := nativeU64(auxBuf[i+8 : i+16])
		if from >= kernelSpaceCutoff || to >= kernelSpaceCutoff {
			continue
		}
		misc := nativeU64(auxBuf[i+16 : i+24])
		out = append(out, reduce.Branch{From: from, To: to, Misc: misc})
	}

	storeU64(dataBuf, offAuxTail, head)
	return out
}

func loadU64(buf []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[off])))
}

func storeU64(buf []byte, off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[off])), v)
}

func nativeU64(b []byte) uint64 {
	return *(*uint64)(unsafe.Pointer(&b[0]))
}

func perfEventOpen(attr *perfEventAttr, pid, cpu, groupFD int, flags uintptr) (int, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_PERF_EVENT_OPEN,
		uintptr(unsafe.Pointer(attr)), uintptr(pid), uintptr(cpu), uintptr(groupFD), flags, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(r1), nil
}

// Close is a no-op: every kernel resource a Trace call acquires is released
// (in reverse order, each exactly once) before Trace returns.
func (t *Tracer) Close() error { return nil }
