// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bme280 controls a Bosch BME280 device over I²C or SPI.
//
// The compensation formulas are the 32 bit and 64 bit integer versions from
// the datasheet; no floating point is involved until a Reading is converted
// to periph units.
//
// # Measurement cycle
//
// Pressure and humidity compensation depend on the fine temperature produced
// by temperature compensation of the same conversion. Compensator keeps that
// value per device, and Compensator.Compensate runs the three steps in order.
//
// # Datasheet
//
// The URLs tend to rot, visit https://www.bosch-sensortec.com if they become
// invalid.
//
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme280-ds002.pdf
//
// C Reference code can be found from Bosch at
// https://github.com/boschsensortec/BME280_SensorAPI
package bme280
