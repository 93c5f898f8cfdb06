// Package display tracks which displays have Always-On-Display engaged
// and drives the panel nodes that switch AOD and doze brightness.
package display
