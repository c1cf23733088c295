package signals

import (
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"
)

// SetupSignalHandler returns a stop channel closed on SIGINT or SIGTERM.
// A second signal terminates the process immediately.
func SetupSignalHandler() <-chan struct{} {
	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		klog.Infof("Received %s, shutting down", sig)
		close(stop)

		<-sigCh
		klog.Error("Received second signal, exiting immediately")
		os.Exit(1)
	}()

	return stop
}
