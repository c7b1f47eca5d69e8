// Command rootctl runs synthetic workloads against the slabroot allocator.
package main

func main() {
	execute()
}
