package core

// DataPortSpec is one configured data-plane listener: a port, its
// protocol, and the name it answers to in a Binding's port-map
// (spec §6 "dataPorts").
type DataPortSpec struct {
	Port     int
	Protocol Protocol
	Name     string
}
