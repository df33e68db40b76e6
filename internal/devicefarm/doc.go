// Package devicefarm implements farm.Service on top of AWS Device Farm.
package devicefarm
