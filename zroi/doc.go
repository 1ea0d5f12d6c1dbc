/*
	Package zroi provides types, constants, and functions that have no other dependencies
	and can be used by all packages within zroi.  This includes the error kinds shared by
	the ROI, scale and loader layers, leveled logging, and command string handling.
*/
package zroi
