package flow

import (
	"fmt"
	"strings"
)

// Mermaid renders the flow as a Mermaid flowchart.
func Mermaid(f *Flow) string {
	if f == nil {
		return "flowchart TD\n    A[Sin flujo activo]"
	}
	if len(f.Nodes) == 0 {
		return "flowchart TD\n    A[Flujo sin mensajes]"
	}

	ids := make(map[*Node]string, len(f.Nodes))
	lines := []string{"flowchart TD"}
	for i, n := range f.Nodes {
		ids[n] = fmt.Sprintf("N%d", i+1)
		lines = append(lines, fmt.Sprintf(`    %s["%s"]`, ids[n], quote(n.Title)))
	}

	for _, n := range f.Nodes {
		for _, o := range n.Options {
			label := quote(o.Title)
			var edge string
			switch a := o.Action.(type) {
			case BookService:
				edge = `BOOK["Acción: Agendar servicio"]`
			case QuoteService:
				edge = `QUOTE["Acción: Cotizar servicio"]`
			case OpenLink:
				edge = `URL["Acción: Enlace"]`
			case Close:
				edge = `CLOSE["Acción: Cerrar"]`
			case GoToStart:
				if start := f.Start(); start != nil {
					edge = ids[start]
				}
			case GoToMessage:
				edge = ids[f.Node(a.Next)]
			}
			if edge != "" {
				lines = append(lines, fmt.Sprintf(`    %s -->|"%s"| %s`, ids[n], label, edge))
			}
		}
		if next := f.Node(n.DefaultNext); next != nil {
			lines = append(lines, fmt.Sprintf(`    %s -. "Siguiente por defecto" .-> %s`, ids[n], ids[next]))
		}
	}
	return strings.Join(lines, "\n")
}

func quote(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}
