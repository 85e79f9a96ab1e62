//go:build !(linux || darwin || freebsd)

package arena

type platformSource = heapSource
