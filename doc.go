// Package svcd supervises a set of named services and exposes start, stop,
// restart, status, log and configuration operations to remote clients,
// gated by a three-tier permission model.
//
// The core is the Handler. It maps service names to jobs, each job wrapping
// one Backend built by a Registry from a JobConfig:
//
//	jobs, err := svcd.LoadJobs("/etc/svcd/jobs.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h := svcd.NewHandler(svcd.StaticJobs(jobs...), logger)
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Shutdown()
//
//	client := svcd.NewClientInfo(svcd.LevelControl)
//	err = h.StartService(ctx, client, svcd.ServiceID{Service: "web"})
//
// # Jobs and backends
//
// Built-in backends cover systemd units, LSB init scripts, runit,
// daemontools and s6 supervised directories, and plain child processes.
// Backend calls return promptly; transitions show up as Starting and
// Stopping samples.
//
// # Polling and events
//
// Every job with a non-zero poll interval runs a Poller that samples all of
// its services under the job lock and emits a StatusEvent to every
// registered Interface whenever a sample changes. Control operations
// invalidate the cached sample and nudge the poller, so the new state is
// reported without waiting for the next tick.
//
// # Permissions
//
// Every operation requires one of the nominal levels Display, Control or
// Admin. A job may remap them, for example "display=control" hides its
// services from display-only clients.
package svcd
