// Package daemon provides the main orchestration for aodd.
// It wires the sensor manager, the AOD and doze brightness notifiers, the
// display registry, the transition journal, the D-Bus service and config
// hot reload.
package daemon
