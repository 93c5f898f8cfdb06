// Package dbus exports the aodd control interface on D-Bus and provides a
// client for it.
//
// The interface lets other processes read the active display set, override
// it by hand and follow its changes through the ActiveDisplaysChanged signal.
package dbus
