// Package bridge inserts capability conversions between ports.
//
// When an output's capabilities and an input's accepted capabilities are
// disjoint, the runtime consults a Registry of capability pair factories.
// The first registered pair over (output capabilities x input capabilities),
// in declared order, is used: the factory creates a Bridge handler, the
// runtime registers it like any other handler and links
//
//	source output -> bridge input    (source capability)
//	bridge output -> target input    (target capability)
//
// Transfer is the generic bridge. Its ports mirror the source output, so the
// element type and ring size are preserved; an optional ConvertFunc performs
// the actual move between memory spaces. NewDefaultRegistry provides
// passthrough transfers for cpu<->gpu so pipelines can be wired before a real
// accelerator backend registers its own factories.
package bridge
