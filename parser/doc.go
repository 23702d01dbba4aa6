// Package parser builds workflow.Workflow values from declarative YAML
// documents: initial variables, agent specs (constructed through a
// host-supplied factory, never here), the recursive step graph with its
// loop/route/parallel/repeat forms, workflow config flags with their
// aliases, and callback names resolved against host registries.
package parser
