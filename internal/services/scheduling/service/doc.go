// Package service exposes typed write and read entry points over the
// scheduling aggregates for transport layers.
//
// Callers arrive with identity already resolved. Domain rejections surface as
// *apperrors.Error values carrying the rejection code, so transports can map
// them with ToGRPCStatus without knowing the deciders.
package service
