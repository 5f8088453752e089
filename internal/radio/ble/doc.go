// Package ble implements radio.Scanner and radio.Advertiser on top of the
// host Bluetooth Low Energy adapter.
package ble
