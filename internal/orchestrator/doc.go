// Package orchestrator drives a device farm run through its stages.
//
// A run moves through these states, in order:
//
//	idle → pool_verified → artifacts_ready → app_uploaded → tests_uploaded
//	     → scheduled → monitoring → collecting → downloading → done
//
// Any failure before scheduled ends the run where it is. Once the remote
// run exists, a failure, a timeout, a canceled context or a panic during
// monitoring moves to aborting. The remote run is then stopped exactly once,
// with a bounded request that ignores the cancellation.
//
// # Usage
//
//	orc, err := orchestrator.New(svc, orchestrator.Config{
//	    Project:    projectARN,
//	    Spec:       spec,
//	    ResultsDir: "results",
//	}, orchestrator.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	res, err := orc.Run(ctx)
//
// A run that finished as errored is still collected and downloaded.
package orchestrator
